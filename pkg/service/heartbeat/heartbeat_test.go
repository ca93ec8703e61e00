package heartbeat_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ermine-ai/ermine/pkg/service/heartbeat"
	"github.com/m-mizutani/gt"
)

func TestNewRunnerValidation(t *testing.T) {
	_, err := heartbeat.NewRunner("", time.Second, func(context.Context, string) error { return nil })
	gt.Error(t, err)

	_, err = heartbeat.NewRunner("beat.md", time.Second, nil)
	gt.Error(t, err)
}

func TestReadMessageMissingFile(t *testing.T) {
	runner, err := heartbeat.NewRunner(filepath.Join(t.TempDir(), "absent.md"), time.Second,
		func(context.Context, string) error { return nil })
	gt.NoError(t, err)

	message, err := runner.ReadMessage()
	gt.NoError(t, err)
	gt.V(t, message).Equal("")
}

func TestRunnerFiresFileMessage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "HEARTBEAT.md")
	gt.NoError(t, os.WriteFile(path, []byte("check the calendar\n"), 0o644))

	var mutex sync.Mutex
	var fired []string
	runner, err := heartbeat.NewRunner(path, 50*time.Millisecond, func(_ context.Context, prompt string) error {
		mutex.Lock()
		defer mutex.Unlock()
		fired = append(fired, prompt)
		return nil
	})
	gt.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 220*time.Millisecond)
	defer cancel()
	gt.NoError(t, runner.Run(ctx))

	mutex.Lock()
	defer mutex.Unlock()
	gt.Number(t, len(fired)).GreaterOrEqual(2)
	gt.V(t, fired[0]).Equal("check the calendar")
}

func TestRunnerSkipsEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "HEARTBEAT.md")
	gt.NoError(t, os.WriteFile(path, []byte("   \n"), 0o644))

	var mutex sync.Mutex
	count := 0
	runner, err := heartbeat.NewRunner(path, 50*time.Millisecond, func(context.Context, string) error {
		mutex.Lock()
		defer mutex.Unlock()
		count++
		return nil
	})
	gt.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	gt.NoError(t, runner.Run(ctx))

	mutex.Lock()
	defer mutex.Unlock()
	gt.V(t, count).Equal(0)
}
