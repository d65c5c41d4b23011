package schedulersvc

import (
	"context"
	"fmt"

	"github.com/trezcool/campus/core"
	"github.com/trezcool/campus/core/session"
	"github.com/trezcool/campus/core/workflow"
)

// CampusJobs returns the application's periodic jobs.
func CampusJobs(logger core.Logger, workflows *workflow.Service, worker *workflow.Worker, sessions *session.Service) []Job {
	return []Job{
		{
			Name: "fire time-based workflows",
			Spec: FireDueSpec,
			Run: func(ctx context.Context) error {
				n, err := workflows.FireDue(ctx)
				if n > 0 {
					logger.Info(fmt.Sprintf("queued %d deliveries for starting instances", n))
				}
				return err
			},
		},
		{
			Name: "drain deliveries",
			Spec: DrainSpec,
			Run: func(ctx context.Context) error {
				res, err := worker.Drain(ctx)
				if res.Sent+res.Failed+res.Dead > 0 {
					logger.Info(fmt.Sprintf("deliveries: %d sent, %d failed, %d dead", res.Sent, res.Failed, res.Dead))
				}
				return err
			},
		},
		{
			Name: "extend session horizon",
			Spec: ExtendHorizonSpec,
			Run: func(ctx context.Context) error {
				res, err := sessions.ExtendHorizon(ctx)
				logger.Info(fmt.Sprintf("session horizon extended: %d created, %d updated, %d removed", res.Created, res.Updated, res.Removed))
				return err
			},
		},
	}
}
