package filter

import (
	"context"
	"sync"
	"time"

	"github.com/ajitpratap0/voxelflow/pkg/errors"
)

// Base carries the state, codes and notification plumbing shared by every
// filter. Embed it and call Init from the constructor.
type Base struct {
	mu          sync.Mutex
	info        Info
	state       State
	errorCode   int
	warningCode int
	errorText   string
	inPreflight bool
	disabled    bool

	notifier Notifier
	index    int
}

// Init sets the class description reported by Info.
func (b *Base) Init(info Info) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.info = info
	b.index = -1
}

func (b *Base) Info() Info {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.info
}

// SetHumanLabel overrides the label shown in messages, as pipeline files do.
func (b *Base) SetHumanLabel(label string) {
	if label == "" {
		return
	}
	b.mu.Lock()
	b.info.HumanLabel = label
	b.mu.Unlock()
}

func (b *Base) Enabled() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.disabled
}

func (b *Base) SetEnabled(enabled bool) {
	b.mu.Lock()
	b.disabled = !enabled
	b.mu.Unlock()
}

func (b *Base) Attach(n Notifier, index int) {
	b.mu.Lock()
	b.notifier = n
	b.index = index
	b.mu.Unlock()
}

func (b *Base) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Status{State: b.state, ErrorCode: b.errorCode, WarningCode: b.warningCode, ErrorMessage: b.errorText}
}

// ErrorCode is the code recorded by the current phase.
func (b *Base) ErrorCode() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.errorCode
}

// InPreflight is true between BeginPreflight and EndPreflight. Filters use
// it to skip allocations that only matter during execution.
func (b *Base) InPreflight() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.inPreflight
}

func (b *Base) BeginPreflight() {
	b.mu.Lock()
	b.state = StatePreflighting
	b.inPreflight = true
	b.clearLocked()
	b.mu.Unlock()
}

func (b *Base) EndPreflight() {
	b.mu.Lock()
	b.inPreflight = false
	if b.errorCode < 0 {
		b.state = StatePreflightFailed
	} else {
		b.state = StatePreflightOK
	}
	b.mu.Unlock()
}

func (b *Base) BeginExecute() {
	b.mu.Lock()
	b.state = StateExecuting
	b.clearLocked()
	b.mu.Unlock()
}

// EndExecute settles the terminal state. A filter that stopped because ctx
// was cancelled, without recording a failure, ends Cancelled with
// errors.CodeCancelled.
func (b *Base) EndExecute(ctx context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch {
	case b.errorCode < 0:
		b.state = StateExecuteFailed
	case b.errorCode == errors.CodeCancelled || ctx.Err() != nil:
		b.errorCode = errors.CodeCancelled
		b.state = StateCancelled
	default:
		b.state = StateExecuteOK
	}
}

func (b *Base) clearLocked() {
	b.errorCode = 0
	b.warningCode = 0
	b.errorText = ""
}

// SetErrorCondition records code and reports text as an error message.
func (b *Base) SetErrorCondition(code int, text string) {
	b.mu.Lock()
	b.errorCode = code
	b.errorText = text
	b.mu.Unlock()
	b.emit(MessageError, text, code, 0)
}

// SetErrorFromErr records the code carried by err. Cancellation is recorded
// without an error message.
func (b *Base) SetErrorFromErr(err error) {
	if err == nil {
		return
	}
	if errors.IsType(err, errors.ErrorTypeCancelled) {
		b.mu.Lock()
		b.errorCode = errors.CodeCancelled
		b.mu.Unlock()
		return
	}
	code := errors.CodeOf(err)
	if code >= 0 {
		code = errors.CodeInternal
	}
	b.SetErrorCondition(code, err.Error())
}

// SetWarningCondition records code and reports text as a warning. Warnings
// never fail a phase.
func (b *Base) SetWarningCondition(code int, text string) {
	b.mu.Lock()
	b.warningCode = code
	b.mu.Unlock()
	b.emit(MessageWarning, text, code, 0)
}

// ClearErrorCode resets the recorded codes.
func (b *Base) ClearErrorCode() {
	b.mu.Lock()
	b.clearLocked()
	b.mu.Unlock()
}

func (b *Base) NotifyStatus(text string) {
	b.emit(MessageStatus, text, 0, 0)
}

// NotifyProgress reports percent in [0, 100].
func (b *Base) NotifyProgress(percent int, text string) {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	b.emit(MessageProgress, text, 0, percent)
}

func (b *Base) NotifyWarning(code int, text string) {
	b.emit(MessageWarning, text, code, 0)
}

// NotifyError reports an error message without recording code; the phase
// outcome is unchanged.
func (b *Base) NotifyError(code int, text string) {
	b.emit(MessageError, text, code, 0)
}

func (b *Base) emit(kind MessageKind, text string, code, progress int) {
	b.mu.Lock()
	n := b.notifier
	msg := Message{
		Kind:        kind,
		FilterClass: b.info.ClassName,
		FilterLabel: b.info.HumanLabel,
		FilterIndex: b.index,
		Text:        text,
		Code:        code,
		Progress:    progress,
		Time:        time.Now(),
	}
	b.mu.Unlock()
	if n != nil {
		n.Notify(msg)
	}
}
