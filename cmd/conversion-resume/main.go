package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mmdatafocus/tradedocs/config"
	"github.com/mmdatafocus/tradedocs/conversion"
	"github.com/mmdatafocus/tradedocs/notify"
	"github.com/mmdatafocus/tradedocs/querycache"
	"github.com/mmdatafocus/tradedocs/remote"
	"github.com/mmdatafocus/tradedocs/utils"
	"github.com/mmdatafocus/tradedocs/workflow"
)

func main() {
	businessID := flag.String("business-id", "", "Optional: only resume conversions of this business")
	dryRun := flag.Bool("dry-run", true, "List partial conversions without resuming them")
	token := flag.String("token", "", "Bearer token for the document API (default: API_TOKEN env)")
	continueOnError := flag.Bool("continue-on-error", false, "Skip failing conversions and continue with the rest")
	flag.Parse()

	settings := config.LoadSettings()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	journal, locker, err := openJournal(ctx, settings)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open journal: %v\n", err)
		os.Exit(1)
	}

	bearer := strings.TrimSpace(*token)
	if bearer == "" {
		bearer = strings.TrimSpace(os.Getenv("API_TOKEN"))
	}
	if bearer != "" {
		ctx = utils.SetTokenInContext(ctx, bearer)
	}

	cache := querycache.New(querycache.WithDefaults(querycache.OptionsFromSettings(settings)))
	defer cache.Close(context.Background())
	coord := conversion.NewCoordinator(remote.NewClient(settings), cache,
		conversion.WithJournal(journal),
		conversion.WithLocker(locker),
		conversion.WithLinkRetries(settings.LinkMaxRetries),
	)

	notifier := openNotifier(ctx, settings)
	defer notifier.stop()

	pending, err := coord.Pending(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "list pending conversions: %v\n", err)
		os.Exit(1)
	}

	var resumed, failed int
	for _, saga := range pending {
		if *businessID != "" && saga.BusinessId != *businessID {
			continue
		}
		fmt.Printf("Partial conversion business=%s source=%s %s derived=%s %s since=%s\n",
			saga.BusinessId, saga.SourceType, saga.SourceNumber, saga.DerivedType, saga.DerivedNumber, saga.UpdatedAt.Format(time.RFC3339))
		if *dryRun {
			continue
		}

		sagaCtx := utils.SetBusinessIdInContext(ctx, saga.BusinessId)
		res, err := coord.ResumeSaga(sagaCtx, saga)
		if err != nil {
			failed++
			notifier.Notify(sagaCtx, notify.Failed(sagaCtx, workflow.OpResume, saga.SourceType, saga.SourceId, err))
			if *continueOnError {
				fmt.Fprintf(os.Stderr, "resume failed (skipping): %v\n", err)
				continue
			}
			fmt.Fprintf(os.Stderr, "resume failed: %v\n", err)
			os.Exit(1)
		}
		resumed++
		notifier.Notify(sagaCtx, notify.Succeeded(sagaCtx, workflow.OpResume, res.Source,
			fmt.Sprintf("%s %s linked to %s %s", res.Source.Type.Label(), res.Source.DocumentNumber, res.Derived.Type.Label(), res.Derived.DocumentNumber)))
		fmt.Printf("  linked %s -> %s\n", res.Source.DocumentNumber, res.Derived.DocumentNumber)
	}

	fmt.Printf("Done. pending=%d resumed=%d failed=%d dry_run=%v\n", len(pending), resumed, failed, *dryRun)
	if failed > 0 {
		os.Exit(1)
	}
}

// openJournal picks the journal named by CONVERSION_JOURNAL. The memory journal
// holds nothing across processes, so this command needs redis or mysql.
func openJournal(ctx context.Context, s config.Settings) (conversion.Journal, conversion.Locker, error) {
	switch s.JournalBackend {
	case config.JournalRedis:
		if err := config.ConnectRedisWithRetry(ctx, 5); err != nil {
			return nil, nil, err
		}
		return conversion.NewRedisJournal(config.GetRedisDB()), conversion.NewRedisLocker(config.GetRedisLock()), nil
	case config.JournalMySQL:
		if err := config.ConnectDatabaseWithRetry(ctx, 5); err != nil {
			return nil, nil, err
		}
		j := conversion.NewGormJournal(config.GetDB())
		if err := j.Migrate(ctx); err != nil {
			return nil, nil, err
		}
		var locker conversion.Locker = conversion.NewLocalLocker()
		if err := config.ConnectRedisWithRetry(ctx, 1); err == nil {
			locker = conversion.NewRedisLocker(config.GetRedisLock())
		}
		return j, locker, nil
	default:
		return nil, nil, fmt.Errorf("CONVERSION_JOURNAL=%s keeps no state between processes; use redis or mysql", s.JournalBackend)
	}
}

type resumeNotifier struct {
	notify.Multi
	stop func()
}

// openNotifier always logs; with PUBSUB_TOPIC set it also publishes the events.
func openNotifier(ctx context.Context, s config.Settings) resumeNotifier {
	logger := config.GetLogger()
	n := resumeNotifier{Multi: notify.Multi{notify.LogNotifier{Logger: logger}}, stop: func() {}}
	if s.PubSubTopic == "" {
		return n
	}
	ps, err := notify.ConnectPubSubNotifier(ctx, s.PubSubTopic, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pubsub disabled: %v\n", err)
		return n
	}
	n.Multi = append(n.Multi, ps)
	n.stop = ps.Stop
	return n
}
