package filter

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ajitpratap0/voxelflow/pkg/datamodel"
	"github.com/ajitpratap0/voxelflow/pkg/errors"
	"github.com/ajitpratap0/voxelflow/pkg/logger"
)

type recorder struct {
	mu   sync.Mutex
	msgs []Message
}

func (r *recorder) Notify(m Message) {
	r.mu.Lock()
	r.msgs = append(r.msgs, m)
	r.mu.Unlock()
}

func newBase() *Base {
	b := &Base{}
	b.Init(Info{ClassName: "Probe", HumanLabel: "Probe Filter", Group: "Test"})
	return b
}

func TestBasePreflightStates(t *testing.T) {
	b := newBase()
	assert.Equal(t, StateConfigured, b.Status().State)

	b.BeginPreflight()
	assert.True(t, b.InPreflight())
	assert.Equal(t, StatePreflighting, b.Status().State)
	b.EndPreflight()
	assert.False(t, b.InPreflight())
	assert.Equal(t, StatePreflightOK, b.Status().State)

	b.BeginPreflight()
	b.SetErrorCondition(-501, "bad type")
	b.EndPreflight()
	st := b.Status()
	assert.Equal(t, StatePreflightFailed, st.State)
	assert.Equal(t, -501, st.ErrorCode)
	assert.True(t, st.Failed())

	// a new phase starts clean
	b.BeginPreflight()
	b.EndPreflight()
	assert.Equal(t, 0, b.ErrorCode())
}

func TestBaseExecuteStates(t *testing.T) {
	b := newBase()

	b.BeginExecute()
	b.EndExecute(context.Background())
	assert.Equal(t, StateExecuteOK, b.Status().State)

	b.BeginExecute()
	b.SetErrorCondition(-10, "boom")
	b.EndExecute(context.Background())
	assert.Equal(t, StateExecuteFailed, b.Status().State)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	b.BeginExecute()
	b.EndExecute(ctx)
	st := b.Status()
	assert.Equal(t, StateCancelled, st.State)
	assert.Equal(t, errors.CodeCancelled, st.ErrorCode)
}

func TestBaseFailureWinsOverCancel(t *testing.T) {
	b := newBase()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	b.BeginExecute()
	b.SetErrorCondition(-7, "failed first")
	b.EndExecute(ctx)
	assert.Equal(t, StateExecuteFailed, b.Status().State)
	assert.Equal(t, -7, b.ErrorCode())
}

func TestBaseMessagesCarryFilterIdentity(t *testing.T) {
	b := newBase()
	rec := &recorder{}
	b.Attach(rec, 3)
	b.SetHumanLabel("Relabelled")

	b.NotifyStatus("working")
	b.NotifyProgress(150, "almost")
	b.SetWarningCondition(-5, "careful")
	b.SetErrorCondition(-6, "broken")

	require.Len(t, rec.msgs, 4)
	for _, m := range rec.msgs {
		assert.Equal(t, 3, m.FilterIndex)
		assert.Equal(t, "Relabelled", m.FilterLabel)
		assert.Equal(t, "Probe", m.FilterClass)
	}
	assert.Equal(t, MessageStatus, rec.msgs[0].Kind)
	assert.Equal(t, 100, rec.msgs[1].Progress)
	assert.Equal(t, MessageWarning, rec.msgs[2].Kind)
	assert.Equal(t, -5, b.Status().WarningCode)
	assert.Equal(t, MessageError, rec.msgs[3].Kind)
	assert.Equal(t, -6, rec.msgs[3].Code)
}

func TestNotifyOnlyDoesNotRecordCodes(t *testing.T) {
	b := newBase()
	rec := &recorder{}
	b.Attach(rec, 0)

	b.NotifyWarning(-7, "heads up")
	b.NotifyError(-8, "recoverable")

	require.Len(t, rec.msgs, 2)
	assert.Equal(t, MessageWarning, rec.msgs[0].Kind)
	assert.Equal(t, MessageError, rec.msgs[1].Kind)
	assert.Equal(t, -8, rec.msgs[1].Code)
	assert.Zero(t, b.Status().WarningCode)
	assert.Zero(t, b.ErrorCode())
}

func TestSetErrorFromErr(t *testing.T) {
	b := newBase()
	rec := &recorder{}
	b.Attach(rec, 0)

	b.SetErrorFromErr(errors.New(errors.ErrorTypeTypeMismatch, "x").WithCode(errors.CodeComponentMismatch))
	assert.Equal(t, errors.CodeComponentMismatch, b.ErrorCode())

	b.ClearErrorCode()
	b.SetErrorFromErr(errors.New(errors.ErrorTypeCancelled, "stop"))
	assert.Equal(t, errors.CodeCancelled, b.ErrorCode())
	assert.Len(t, rec.msgs, 1)
}

func TestEnabledDefaultsTrue(t *testing.T) {
	b := newBase()
	assert.True(t, b.Enabled())
	b.SetEnabled(false)
	assert.False(t, b.Enabled())
}

func TestPlaceholderFailsPreflight(t *testing.T) {
	p := NewUnknown("FancyFilter", map[string]any{"Threshold": 3.0})
	rec := &recorder{}
	p.Attach(rec, 2)

	p.Preflight(context.Background(), datamodel.NewDataContainerArray())

	st := p.Status()
	assert.Equal(t, StatePreflightFailed, st.State)
	assert.Equal(t, errors.CodeUnknownFilter, st.ErrorCode)
	assert.Equal(t, "UNKNOWN FILTER: FancyFilter", p.Info().HumanLabel)
	assert.Equal(t, map[string]any{"Threshold": 3.0}, p.ParameterValues())
	require.Len(t, rec.msgs, 1)
	assert.Contains(t, rec.msgs[0].Text, "FancyFilter")

	m := NewMissing(4)
	m.Preflight(context.Background(), datamodel.NewDataContainerArray())
	assert.Equal(t, errors.CodeMissingFilter, m.Status().ErrorCode)
	assert.Equal(t, "MISSING FILTER", m.Info().HumanLabel)
}

type probeParams struct {
	Input     datamodel.DataArrayPath `mapstructure:"InputArrayPath" json:"InputArrayPath"`
	Type      datamodel.ElementType   `mapstructure:"ScalarType" json:"ScalarType"`
	Kind      datamodel.MatrixType    `mapstructure:"MatrixType" json:"MatrixType"`
	Value     float64                 `mapstructure:"Value" json:"Value"`
	Dims      []int                   `mapstructure:"Dims" json:"Dims"`
	Overwrite bool                    `mapstructure:"Overwrite" json:"Overwrite"`
}

func TestDecodeParameters(t *testing.T) {
	var p probeParams
	err := DecodeParameters(map[string]any{
		"InputArrayPath": "dc|am|arr",
		"ScalarType":     "double",
		"MatrixType":     "CellFeature",
		"Value":          "2.5",
		"Dims":           []any{float64(4), float64(5)},
		"Overwrite":      1,
	}, &p)
	require.NoError(t, err)

	assert.Equal(t, datamodel.MustPath("dc", "am", "arr"), p.Input)
	assert.Equal(t, datamodel.ElementFloat64, p.Type)
	assert.Equal(t, datamodel.MatrixCellFeature, p.Kind)
	assert.Equal(t, 2.5, p.Value)
	assert.Equal(t, []int{4, 5}, p.Dims)
	assert.True(t, p.Overwrite)
}

func TestDecodeParametersPathObject(t *testing.T) {
	var p probeParams
	err := DecodeParameters(map[string]any{
		"InputArrayPath": map[string]any{
			"Data Container Name":   "dc",
			"Attribute Matrix Name": "am",
			"Data Array Name":       "arr",
		},
	}, &p)
	require.NoError(t, err)
	assert.Equal(t, "dc|am|arr", p.Input.String())
}

func TestEncodeParametersRoundTrips(t *testing.T) {
	in := probeParams{
		Input: datamodel.MustPath("dc", "am", "arr"),
		Type:  datamodel.ElementInt32,
		Kind:  datamodel.MatrixCell,
		Value: 1.5,
		Dims:  []int{2},
	}
	values := EncodeParameters(in)
	assert.Equal(t, "dc|am|arr", values["InputArrayPath"])
	assert.Equal(t, "int32", values["ScalarType"])

	var out probeParams
	require.NoError(t, DecodeParameters(values, &out))
	assert.Equal(t, in, out)
}

func TestDecodeParametersRejectsBadValues(t *testing.T) {
	var p probeParams
	err := DecodeParameters(map[string]any{"ScalarType": "complex"}, &p)
	assert.True(t, errors.IsType(err, errors.ErrorTypeInvalidParameter))
}

type failingValue struct{}

func (failingValue) MarshalJSON() ([]byte, error) { return nil, errors.New(errors.ErrorTypeInternal, "no encoding") }

type unencodable struct {
	Value failingValue `json:"Value"`
}

func TestEncodeParametersLogsFailure(t *testing.T) {
	_, err := MarshalParameters(unencodable{})
	assert.True(t, errors.IsType(err, errors.ErrorTypeInvalidParameter))

	core, logs := observer.New(zap.ErrorLevel)
	defer logger.Replace(zap.New(core))()

	assert.Empty(t, EncodeParameters(unencodable{}))
	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "encode filter parameters", entry.Message)
	assert.Equal(t, "filter.unencodable", entry.ContextMap()["type"])
}
