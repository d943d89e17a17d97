package adb

import (
	"context"
	"fmt"
	"strings"
)

// AppManager launches and stops packages.
type AppManager struct {
	r *Runner
}

// NewAppManager creates a new AppManager.
func NewAppManager(r *Runner) *AppManager {
	return &AppManager{r: r}
}

// LaunchApp starts the launcher activity of pkg.
func (a *AppManager) LaunchApp(ctx context.Context, pkg string) error {
	out, err := a.r.Shell(ctx, fmt.Sprintf("monkey -p %s -c android.intent.category.LAUNCHER 1", pkg))
	if err != nil {
		return err
	}
	if strings.Contains(out, "No activities found") {
		return fmt.Errorf("package %s has no launcher activity", pkg)
	}
	return nil
}

// ForceStop kills every process of pkg.
func (a *AppManager) ForceStop(ctx context.Context, pkg string) error {
	_, err := a.r.Shell(ctx, "am force-stop "+pkg)
	return err
}
