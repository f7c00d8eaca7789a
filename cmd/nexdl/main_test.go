package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mmcdole/nexdl/internal/adapter"
	"github.com/mmcdole/nexdl/internal/adapter/browser"
	"github.com/mmcdole/nexdl/internal/domain"
	"github.com/mmcdole/nexdl/internal/service"
	"github.com/mmcdole/nexdl/internal/vision"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"ok", nil, exitOK},
		{"config", &domain.ConfigError{Field: "game", Reason: "must not be empty"}, exitConfig},
		{"wrapped config", fmt.Errorf("load: %w", &domain.ConfigError{Field: "x", Reason: "y"}), exitConfig},
		{"stopped", errStopped, exitInterrupted},
		{"failed items", fmt.Errorf("%w: 1 of 3", errItemsFailed), exitFailure},
		{"persistence", &domain.PersistenceError{Op: "write", Err: errors.New("disk full")}, exitFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exitCode(tt.err))
		})
	}
}

func TestDownloadConfig(t *testing.T) {
	cfg := adapter.DefaultConfig()
	cfg.Game = "skyrimspecialedition"
	cfg.Download.AutoClose = false
	cfg.Download.BatchSize = 7
	cfg.Download.MaxAttempts = 5

	dc := downloadConfig(cfg)
	assert.Equal(t, "skyrimspecialedition", dc.Game)
	assert.False(t, dc.AutoClose)
	assert.Equal(t, 7, dc.BatchSize)
	assert.Equal(t, 5, dc.Retry.MaxAttempts)
	assert.Equal(t, cfg.Download.RetryBaseDelay, dc.Retry.BaseDelay)
	assert.Equal(t, cfg.Download.DelayForDownload, dc.DelayForDownload)
}

func TestUseDashboard(t *testing.T) {
	assert.True(t, useDashboard(adapter.DashboardOn))
	assert.False(t, useDashboard(adapter.DashboardOff))
}

func TestConfirm(t *testing.T) {
	var out bytes.Buffer
	assert.True(t, confirm(strings.NewReader("\n"), &out, "Delete?"))
	assert.True(t, confirm(strings.NewReader("yes\n"), &out, "Delete?"))
	assert.False(t, confirm(strings.NewReader("n\n"), &out, "Delete?"))
	assert.False(t, confirm(strings.NewReader(""), &out, "Delete?"))
	assert.Contains(t, out.String(), "Delete? [Y/n]")
}

func TestWaitForEnter_ClosedInput(t *testing.T) {
	var out bytes.Buffer
	assert.Error(t, waitForEnter(strings.NewReader(""), &out, "Press ENTER"))
	assert.NoError(t, waitForEnter(strings.NewReader("\n"), &out, "Press ENTER"))
}

func TestPlainObserver(t *testing.T) {
	var out bytes.Buffer
	obs := plainObserver{out: &out}
	item := domain.WorkItem{ModID: 107, FileID: 9001}
	pos := domain.ClickPosition{X: 10, Y: 20}

	obs.OnEvent(domain.RunEvent{Kind: domain.EventItemStarted, Item: item, Index: 2, Total: 3})
	obs.OnEvent(domain.RunEvent{Kind: domain.EventItemFinished, Item: item, Outcome: domain.StatusCompleted, Position: &pos, Done: 2, Total: 3})
	obs.OnEvent(domain.RunEvent{Kind: domain.EventItemFinished, Item: item, Outcome: domain.StatusFailed, Attempts: 3, Err: errors.New("boom")})
	obs.OnEvent(domain.RunEvent{Kind: domain.EventBatchFlushed, Closed: 4})

	text := out.String()
	assert.Contains(t, text, "[2/3] "+item.String())
	assert.Contains(t, text, "done at "+pos.String())
	assert.Contains(t, text, "failed after 3 attempt(s): boom")
	assert.Contains(t, text, "Closed 4 tab(s)")
}

func TestPrintSummary_ListsFailures(t *testing.T) {
	var out bytes.Buffer
	printSummary(&out, service.RunSummary{
		Completed:   2,
		Failed:      1,
		FailedItems: []domain.WorkItem{{ModID: 1, FileID: 2}},
		Duration:    1500 * time.Millisecond,
	})
	assert.Contains(t, out.String(), "Completed: 2  Failed: 1")
	assert.Contains(t, out.String(), "failed: "+domain.WorkItem{ModID: 1, FileID: 2}.String())
}

func TestCalibrate_WritesBothTemplatesOnce(t *testing.T) {
	dir := t.TempDir()
	normal := filepath.Join(dir, "templates", "button.png")
	c := calibration{
		url:        "https://www.nexusmods.com/skyrim/mods/1?tab=files&file_id=2",
		delay:      time.Second,
		width:      40,
		height:     20,
		normalPath: normal,
		hoverPath:  vision.HoverPath(normal),
	}
	noSleep := service.SleeperFunc(func(context.Context, time.Duration) error { return nil })

	b := browser.NewDryRun(320, 240, nil)
	pos, written, err := calibrate(context.Background(), b, b, noSleep, c)
	require.NoError(t, err)
	assert.Equal(t, domain.ClickPosition{X: 160, Y: 120}, pos)
	assert.Equal(t, []string{normal, vision.HoverPath(normal)}, written)
	assert.Equal(t, 0, b.OpenTabs(), "calibration tab must be closed")

	_, written, err = calibrate(context.Background(), b, b, noSleep, c)
	require.NoError(t, err)
	assert.Empty(t, written, "existing templates are kept")

	_, err = os.Stat(vision.HoverPath(normal))
	assert.NoError(t, err)
}

func TestCalibrate_CancelledBeforeClick(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	b := browser.NewDryRun(320, 240, nil)
	_, _, err := calibrate(ctx, b, b, service.TimerSleeper{}, calibration{url: "https://example.invalid"})
	assert.Error(t, err)
	assert.Equal(t, 0, b.OpenTabs())
}
