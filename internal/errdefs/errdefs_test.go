package errdefs

import (
	"io"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestClassification(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		validation bool
		connection bool
		pipeline   bool
		fatal      bool
	}{
		{
			name:       "validation",
			err:        Validation("address", "300.1.1.1", "not an IPv4 address"),
			validation: true,
		},
		{
			name:       "wrapped connection",
			err:        errors.Wrap(Connection("dial", "10.0.0.1:9000", io.EOF), "start receiver"),
			connection: true,
		},
		{
			name:     "pipeline",
			err:      Pipeline("set state", io.ErrUnexpectedEOF),
			pipeline: true,
		},
		{
			name:     "fatal pipeline",
			err:      Fatal("abc", Pipeline("bus", io.ErrClosedPipe)),
			pipeline: true,
			fatal:    true,
		},
		{
			name: "plain",
			err:  io.EOF,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.validation, IsValidation(tt.err))
			assert.Equal(t, tt.connection, IsConnection(tt.err))
			assert.Equal(t, tt.pipeline, IsPipeline(tt.err))
			assert.Equal(t, tt.fatal, IsFatal(tt.err))
		})
	}
}

func TestNilConstructors(t *testing.T) {
	assert.NoError(t, Pipeline("noop", nil))
	assert.NoError(t, Fatal("abc", nil))
}

func TestFatalDoesNotDoubleWrap(t *testing.T) {
	inner := Fatal("first", io.EOF)
	outer := Fatal("second", inner)
	assert.Same(t, inner, outer)
}

func TestErrorMessages(t *testing.T) {
	assert.Equal(t, `invalid address "300.1.1.1": not an IPv4 address`,
		Validation("address", "300.1.1.1", "not an IPv4 address").Error())
	assert.Equal(t, "invalid region: empty", Validation("region", "", "empty").Error())
	assert.Equal(t, "cannot pause while idle",
		(&TransitionError{State: "idle", Intent: "pause"}).Error())
	assert.True(t, IsTransition(errors.Wrap(&TransitionError{State: "idle", Intent: "pause"}, "intent")))
}
