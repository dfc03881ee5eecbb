// Copyright (c) 2026 ToeiRei
// Keywarden - fleet-wide SSH key audit and reconciliation
// This source code is licensed under the MIT license found in the LICENSE file.

package remediation

import (
	"context"
	"sync"

	"github.com/toeirei/keywarden/internal/credentials"
	"github.com/toeirei/keywarden/internal/deploy"
	"github.com/toeirei/keywarden/internal/model"
	"github.com/toeirei/keywarden/internal/report"
)

// Uploader replaces the authorized_keys file of one target. The SSH-backed
// implementation is SSHUploader; tests substitute their own.
type Uploader interface {
	Upload(ctx context.Context, target model.Target, content string) error
}

// UploaderFunc adapts a function to the Uploader interface.
type UploaderFunc func(ctx context.Context, target model.Target, content string) error

// Upload calls f.
func (f UploaderFunc) Upload(ctx context.Context, target model.Target, content string) error {
	return f(ctx, target, content)
}

// SSHUploader uploads plans over SFTP, authenticating through the
// credential broker. Cached credentials from the fetch phase are reused,
// so a target that prompted once does not prompt again here.
type SSHUploader struct {
	Config deploy.ConnectionConfig
	Broker *credentials.Broker
}

// Upload implements Uploader.
func (u *SSHUploader) Upload(ctx context.Context, target model.Target, content string) error {
	d, err := deploy.Connect(ctx, target, u.Config, u.Broker)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.UploadAuthorizedKeys(content)
}

// Apply stages every plan locally, then fans out one concurrent upload per
// target and joins them all. Upload failures (a missing remote .ssh
// directory, an unreachable host) are collected per target; siblings run
// to completion regardless. The staging directory is removed before
// returning.
func Apply(ctx context.Context, plans []Plan, uploader Uploader, rep report.Reporter) []model.TargetError {
	if rep == nil {
		rep = report.Nop{}
	}
	if len(plans) == 0 {
		return nil
	}
	rep.PhaseStarted("remediate", len(plans))

	stage, err := NewStage()
	if err != nil {
		// Without a staging directory nothing can proceed; report the
		// whole phase as failed per target.
		errs := make([]model.TargetError, 0, len(plans))
		for _, p := range plans {
			errs = append(errs, model.TargetError{Target: p.Target, Err: err})
		}
		return errs
	}
	defer stage.Cleanup()

	type outcome struct {
		target model.Target
		err    error
	}

	var wg sync.WaitGroup
	outcomes := make(chan outcome, len(plans))
	for _, plan := range plans {
		wg.Add(1)
		go func(plan Plan) {
			defer wg.Done()
			err := func() error {
				if _, err := stage.Write(plan); err != nil {
					return err
				}
				if err := ctx.Err(); err != nil {
					return err
				}
				return uploader.Upload(ctx, plan.Target, plan.Content)
			}()
			rep.RemediationResult(plan.Target, err)
			outcomes <- outcome{target: plan.Target, err: err}
		}(plan)
	}
	wg.Wait()
	close(outcomes)

	failed := make(map[model.Target]error, len(plans))
	for o := range outcomes {
		if o.err != nil {
			failed[o.target] = o.err
		}
	}

	// Report failures in plan order, not completion order.
	var errs []model.TargetError
	for _, plan := range plans {
		if err, ok := failed[plan.Target]; ok {
			errs = append(errs, model.TargetError{Target: plan.Target, Err: err})
		}
	}
	return errs
}
