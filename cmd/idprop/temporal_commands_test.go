package main

import (
	"testing"

	"github.com/brojonat/idproperty/service/temporal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
)

func TestScheduleIDArg(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    string
		wantErr bool
	}{
		{name: "defaults to prune schedule", want: temporal.PruneScheduleID},
		{name: "named schedule", args: []string{"nightly-report"}, want: "nightly-report"},
		{name: "too many arguments", args: []string{"a", "b"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got string
			app := &cli.App{
				Name: "idprop",
				Action: func(c *cli.Context) error {
					id, err := scheduleIDArg(c)
					got = id
					return err
				},
			}

			err := app.Run(append([]string{"idprop"}, tt.args...))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

// Argument errors are reported before any Temporal connection is attempted.
func TestScheduleCommands_RejectExtraArguments(t *testing.T) {
	for _, cmd := range []string{"pause-schedule", "resume-schedule", "trigger-schedule"} {
		t.Run(cmd, func(t *testing.T) {
			_, err := runApp(t, "temporal", cmd, "one", "two")
			require.Error(t, err)
			assert.Contains(t, err.Error(), "at most one argument")
		})
	}
}
