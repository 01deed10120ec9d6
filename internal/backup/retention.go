package backup

import (
	"context"
	"sort"
	"time"

	"forcebackup/internal/logging"
)

// RetentionPolicy bounds how many runs are kept and for how long. Zero
// values disable the corresponding limit.
type RetentionPolicy struct {
	MaxRuns int           `yaml:"max_runs,omitempty" json:"max_runs,omitempty"`
	MaxAge  time.Duration `yaml:"max_age,omitempty" json:"max_age,omitempty"`
}

// Enabled reports whether the policy imposes any limit at all.
func (p *RetentionPolicy) Enabled() bool {
	return p != nil && (p.MaxRuns > 0 || p.MaxAge > 0)
}

// RetentionResult summarizes one retention pass.
type RetentionResult struct {
	Examined int      `json:"examined"`
	Deleted  []string `json:"deleted,omitempty"`
	Failed   []string `json:"failed,omitempty"`
	DryRun   bool     `json:"dry_run"`
}

// RetentionManager applies a retention policy against a storage provider.
type RetentionManager struct {
	provider StorageProvider
	policy   RetentionPolicy
	logger   *logging.Logger
}

// NewRetentionManager creates a retention manager.
func NewRetentionManager(provider StorageProvider, policy RetentionPolicy, logger *logging.Logger) *RetentionManager {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &RetentionManager{provider: provider, policy: policy, logger: logger}
}

// Candidates returns the runs the policy would delete, oldest first.
func (m *RetentionManager) Candidates(ctx context.Context) ([]*RunMetadata, error) {
	runs, err := m.provider.List(ctx, StorageFilter{})
	if err != nil {
		return nil, err
	}

	// newest first
	sort.Slice(runs, func(i, j int) bool {
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})

	expired := make(map[string]bool)
	if m.policy.MaxAge > 0 {
		cutoff := time.Now().Add(-m.policy.MaxAge)
		for _, run := range runs {
			if run.StartedAt.Before(cutoff) {
				expired[run.ID] = true
			}
		}
	}
	if m.policy.MaxRuns > 0 && len(runs) > m.policy.MaxRuns {
		for _, run := range runs[m.policy.MaxRuns:] {
			expired[run.ID] = true
		}
	}

	var candidates []*RunMetadata
	for i := len(runs) - 1; i >= 0; i-- {
		if expired[runs[i].ID] {
			candidates = append(candidates, runs[i])
		}
	}
	return candidates, nil
}

// Apply deletes runs exceeding the policy. With dryRun set, nothing is
// deleted and the result reports what would have been.
func (m *RetentionManager) Apply(ctx context.Context, dryRun bool) (*RetentionResult, error) {
	if !m.policy.Enabled() {
		return &RetentionResult{DryRun: dryRun}, nil
	}

	candidates, err := m.Candidates(ctx)
	if err != nil {
		return nil, err
	}

	result := &RetentionResult{Examined: len(candidates), DryRun: dryRun}
	for _, run := range candidates {
		if dryRun {
			m.logger.WithFields(map[string]interface{}{
				"run_id":     run.ID,
				"started_at": run.StartedAt,
			}).Info("Retention dry run: would delete run")
			result.Deleted = append(result.Deleted, run.ID)
			continue
		}
		if err := m.provider.Delete(ctx, run.ID); err != nil {
			m.logger.WithFields(map[string]interface{}{
				"run_id": run.ID,
				"error":  err.Error(),
			}).Warn("Failed to delete expired run")
			result.Failed = append(result.Failed, run.ID)
			continue
		}
		m.logger.WithFields(map[string]interface{}{
			"run_id":     run.ID,
			"started_at": run.StartedAt,
		}).Info("Deleted expired run")
		result.Deleted = append(result.Deleted, run.ID)
	}
	return result, nil
}
