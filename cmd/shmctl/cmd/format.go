package cmd

import (
	"fmt"
	"time"

	"github.com/fatih/color"

	"github.com/gobeyondidentity/shm/pkg/clierror"
	"github.com/gobeyondidentity/shm/pkg/patch"
)

var (
	okFmt   = color.New(color.FgGreen).SprintFunc()
	failFmt = color.New(color.FgRed, color.Bold).SprintFunc()
	warnFmt = color.New(color.FgYellow).SprintFunc()
	dimFmt  = color.New(color.Faint).SprintFunc()
)

// stageLabel renders a stage for tables. Live stages are green, terminal
// ones dim.
func stageLabel(s patch.Stage) string {
	switch s {
	case patch.StageSilent, patch.StageActive:
		return okFmt(s.Title())
	case patch.StageRolledBack, patch.StageExpired:
		return dimFmt(s.Title())
	default:
		return s.Title()
	}
}

func passLabel(ok bool) string {
	if ok {
		return okFmt("pass")
	}
	return failFmt("FAIL")
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.Format(time.RFC3339)
}

// parseAt reads an optional RFC 3339 --at flag; empty means now.
func parseAt(s string) (time.Time, error) {
	if s == "" {
		return time.Now(), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, clierror.InvalidInput(fmt.Sprintf("--at must be RFC 3339, got %q", s))
	}
	return t, nil
}

func parseStage(s string) (patch.Stage, error) {
	st, err := patch.ParseStage(s)
	if err != nil {
		return "", clierror.InvalidInput(err.Error())
	}
	return st, nil
}
