package cli

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Adriangar333/Traceops-sub000/internal/app"
	"github.com/Adriangar333/Traceops-sub000/internal/model"
)

// QueueEntry is one queued change as listed by `queue list`.
type QueueEntry struct {
	ID          int64             `json:"id"`
	Kind        model.Kind        `json:"kind"`
	Action      model.ActionKind  `json:"action"`
	WorkUnitID  string            `json:"work_unit_id"`
	Target      string            `json:"target"`
	CreatedAt   time.Time         `json:"created_at"`
	Attempts    int               `json:"attempts"`
	FailureKind model.FailureKind `json:"failure_kind,omitempty"`
	LastError   string            `json:"last_error,omitempty"`
	Parked      bool              `json:"parked"`
}

// QueueListing is the output of `queue list`.
type QueueListing struct {
	Items []QueueEntry `json:"items"`
}

func (l QueueListing) String() string {
	if len(l.Items) == 0 {
		return "Queue is empty."
	}
	var b strings.Builder
	for _, it := range l.Items {
		fmt.Fprintf(&b, "%d\t%s\t%s\t%s\tattempts=%d", it.ID, it.Kind, it.Action, it.Target, it.Attempts)
		if it.Parked {
			b.WriteString("\tPARKED")
		}
		if it.LastError != "" {
			fmt.Fprintf(&b, "\t%s", it.LastError)
		}
		b.WriteString("\n")
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// NewQueueCommand creates the queue command group.
func NewQueueCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and requeue pending changes",
	}
	cmd.AddCommand(newQueueListCommand(rootOpts))
	cmd.AddCommand(newQueueRequeueCommand(rootOpts))
	return cmd
}

func newQueueListCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		kindFlag  string
		limit     int
		stuckOnly bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List queued changes oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			e, err := rootOpts.openEnv(ctx)
			if err != nil {
				return err
			}
			defer e.Close()

			lanes, err := selectLanes(e.app, kindFlag)
			if err != nil {
				return err
			}
			out := QueueListing{Items: []QueueEntry{}}
			for _, lane := range lanes {
				if lane.Queue == nil {
					continue
				}
				items, err := lane.Queue.List(ctx, limit)
				if stuckOnly {
					items, err = lane.Queue.Stuck(ctx)
				}
				if err != nil {
					return classify("list queue failed", err)
				}
				budget := lane.Queue.RejectBudget()
				for _, it := range items {
					entry := QueueEntry{
						ID:          it.ID,
						Kind:        it.Kind,
						Target:      "(unreadable payload)",
						CreatedAt:   it.CreatedAt,
						Attempts:    it.Attempts,
						FailureKind: it.FailureKind,
						LastError:   it.LastError,
						Parked:      it.Parked(budget),
					}
					if it.Action != nil {
						family, target := it.Action.Target()
						entry.Action = it.Action.Kind()
						entry.WorkUnitID = it.Action.WorkUnit()
						entry.Target = fmt.Sprintf("%s/%s", family, target)
					}
					out.Items = append(out.Items, entry)
				}
			}
			return rootOpts.formatter(cmd).Success(out)
		},
	}

	cmd.Flags().StringVar(&kindFlag, "kind", "", "only this kind (delivery|service_order)")
	cmd.Flags().IntVar(&limit, "limit", 0, "max items per kind (0 = all)")
	cmd.Flags().BoolVar(&stuckOnly, "stuck", false, "only parked items")
	return cmd
}

func newQueueRequeueCommand(rootOpts *RootOptions) *cobra.Command {
	var kindFlag string

	cmd := &cobra.Command{
		Use:   "requeue <id>",
		Short: "Release a parked item for retry on the next cycle",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid item id", err)
			}
			kind, err := parseKind(kindFlag)
			if err != nil {
				return err
			}

			ctx := commandContext(cmd)
			e, err := rootOpts.openEnv(ctx)
			if err != nil {
				return err
			}
			defer e.Close()

			lane, err := e.app.Lane(kind)
			if err != nil {
				return classify("requeue failed", err)
			}
			if lane.Queue == nil {
				return NewExitError(ExitCommandError, "no local queue in online-only mode")
			}
			if err := lane.Queue.Requeue(ctx, id); err != nil {
				return classify("requeue failed", err)
			}
			return rootOpts.formatter(cmd).Success(fmt.Sprintf("Item %d requeued", id))
		},
	}

	cmd.Flags().StringVar(&kindFlag, "kind", string(model.KindDelivery), "kind the item belongs to")
	return cmd
}

func selectLanes(a *app.App, kindFlag string) ([]*app.Lane, error) {
	if kindFlag == "" {
		return a.Lanes(), nil
	}
	kind, err := parseKind(kindFlag)
	if err != nil {
		return nil, err
	}
	lane, err := a.Lane(kind)
	if err != nil {
		return nil, classify("unknown kind", err)
	}
	return []*app.Lane{lane}, nil
}
