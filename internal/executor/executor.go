package executor

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Page is the browser tab the executor drives.
type Page interface {
	Navigate(ctx context.Context, url string) error
	Click(ctx context.Context, selector string) error
	Input(ctx context.Context, selector, text string) error
	Hover(ctx context.Context, selector string) error
	Text(ctx context.Context, selector string) (string, error)
	Attribute(ctx context.Context, selector, name string) (string, bool, error)
	WaitVisible(ctx context.Context, selector string, timeout time.Duration) error
	Eval(ctx context.Context, script string) (string, error)
	Screenshot(ctx context.Context, selector string) ([]byte, error)
}

// ArtifactStore receives captures.
type ArtifactStore interface {
	Put(key string, data []byte) bool
}

// Result is the outcome of one action.
type Result struct {
	Action      string        `json:"action"`
	Succeeded   bool          `json:"succeeded"`
	Err         error         `json:"-"`
	ErrorDetail string        `json:"errorDetail,omitempty"`
	Data        string        `json:"data,omitempty"` // text, attribute or script result
	ArtifactKey string        `json:"artifactKey,omitempty"`
	Elapsed     time.Duration `json:"elapsed"`
}

// Options configures execution behavior
type Options struct {
	// Delay is slept after every successful action.
	Delay time.Duration
	// StopOnError makes Run stop at the first failed action.
	StopOnError bool
}

// Executor runs actions against one page.
type Executor struct {
	page   Page
	store  ArtifactStore
	opts   Options
	logger *zap.Logger
}

// New returns an executor for page. store may be nil, in which case capture
// actions fail.
func New(page Page, store ArtifactStore, opts Options, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{page: page, store: store, opts: opts, logger: logger.Named("executor")}
}

// Run executes actions in order and returns one result per attempted action.
func (e *Executor) Run(ctx context.Context, actions []Action) []Result {
	results := make([]Result, 0, len(actions))
	for i, action := range actions {
		if ctx.Err() != nil {
			break
		}
		res := e.Execute(ctx, action)
		results = append(results, res)

		if res.Succeeded {
			e.logger.Debug("Action done", zap.Int("step", i+1), zap.Int("of", len(actions)), zap.String("action", res.Action))
			if e.opts.Delay > 0 {
				time.Sleep(e.opts.Delay)
			}
			continue
		}
		e.logger.Warn("Action failed", zap.Int("step", i+1), zap.String("action", res.Action), zap.Error(res.Err))
		if e.opts.StopOnError {
			break
		}
	}
	return results
}

// Execute runs a single action.
func (e *Executor) Execute(ctx context.Context, action Action) Result {
	start := time.Now()

	var res Result
	switch a := action.(type) {
	case Click:
		res = e.click(ctx, a)
	case TypeText:
		res = e.typeText(ctx, a)
	case Hover:
		res = e.hover(ctx, a)
	case CaptureArtifact:
		res = e.capture(ctx, a)
	case FillForm:
		res = e.fillForm(ctx, a)
	case Navigate:
		res = e.navigate(ctx, a)
	case RunScript:
		res = e.runScript(ctx, a)
	case WaitFor:
		res = e.waitFor(ctx, a)
	case ReadText:
		res = e.readText(ctx, a)
	case ReadAttribute:
		res = e.readAttribute(ctx, a)
	default:
		res = Result{Action: fmt.Sprintf("%T", action), Err: ErrUnknownAction}
	}

	res.Elapsed = time.Since(start)
	if res.Err != nil {
		res.Succeeded = false
		res.ErrorDetail = res.Err.Error()
	} else {
		res.Succeeded = true
	}
	return res
}

func (e *Executor) click(ctx context.Context, a Click) Result {
	return Result{Action: a.Name(), Err: e.page.Click(ctx, a.Selector)}
}

func (e *Executor) typeText(ctx context.Context, a TypeText) Result {
	return Result{Action: a.Name(), Err: e.page.Input(ctx, a.Selector, a.Text)}
}

func (e *Executor) hover(ctx context.Context, a Hover) Result {
	return Result{Action: a.Name(), Err: e.page.Hover(ctx, a.Selector)}
}

func (e *Executor) capture(ctx context.Context, a CaptureArtifact) Result {
	res := Result{Action: a.Name()}
	if e.store == nil {
		res.Err = fmt.Errorf("no artifact store configured")
		return res
	}
	data, err := e.page.Screenshot(ctx, a.Selector)
	if err != nil {
		res.Err = fmt.Errorf("failed to capture %q: %w", a.Selector, err)
		return res
	}

	key := a.Key
	if key == "" {
		key = "action-" + uuid.NewString()
	}
	if !e.store.Put(key, data) {
		res.Err = fmt.Errorf("artifact store rejected %s", key)
		return res
	}
	res.ArtifactKey = key
	return res
}

func (e *Executor) fillForm(ctx context.Context, a FillForm) Result {
	selectors := make([]string, 0, len(a.Fields))
	for sel := range a.Fields {
		selectors = append(selectors, sel)
	}
	sort.Strings(selectors)

	for _, sel := range selectors {
		if err := e.page.Input(ctx, sel, a.Fields[sel]); err != nil {
			return Result{Action: a.Name(), Err: fmt.Errorf("field %s: %w", sel, err)}
		}
	}
	return Result{Action: a.Name()}
}

func (e *Executor) navigate(ctx context.Context, a Navigate) Result {
	return Result{Action: a.Name(), Err: e.page.Navigate(ctx, a.URL)}
}

func (e *Executor) runScript(ctx context.Context, a RunScript) Result {
	out, err := e.page.Eval(ctx, a.Script)
	return Result{Action: a.Name(), Data: out, Err: err}
}

func (e *Executor) waitFor(ctx context.Context, a WaitFor) Result {
	res := Result{Action: a.Name()}
	if a.Selector != "" {
		res.Err = e.page.WaitVisible(ctx, a.Selector, a.Timeout)
		return res
	}

	timer := time.NewTimer(a.Timeout)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
		res.Err = ctx.Err()
	}
	return res
}

func (e *Executor) readText(ctx context.Context, a ReadText) Result {
	text, err := e.page.Text(ctx, a.Selector)
	return Result{Action: a.Name(), Data: text, Err: err}
}

func (e *Executor) readAttribute(ctx context.Context, a ReadAttribute) Result {
	v, ok, err := e.page.Attribute(ctx, a.Selector, a.Attribute)
	if err == nil && !ok {
		err = fmt.Errorf("attribute %q not set on %s", a.Attribute, a.Selector)
	}
	return Result{Action: a.Name(), Data: v, Err: err}
}
