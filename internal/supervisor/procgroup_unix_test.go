//go:build !windows

package supervisor

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInterruptReachesGrandchildren(t *testing.T) {
	out := &syncBuffer{}
	s := newSupervisor(out)
	require.NoError(t, s.Add(Process{Name: "npm watch", Steps: [][]string{helper("spawn")}}))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		assert.Eventually(t, func() bool {
			return strings.Contains(out.String(), "spawned")
		}, 10*time.Second, 10*time.Millisecond)
		cancel()
	}()

	start := time.Now()
	code, err := s.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, InterruptedExitCode, code)
	assert.Contains(t, out.String(), "grandchild exited", "the interrupt reached the whole process group")
	assert.Less(t, time.Since(start), 10*time.Second)
}
