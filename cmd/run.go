package cmd

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/bandit-router/bandit-router/bandit"
	"github.com/bandit-router/bandit-router/dispatch"
	"github.com/bandit-router/bandit-router/routing"
)

// armProfile is the latent ground truth behind one synthetic arm: the
// engine never sees these numbers, only the outcomes they generate.
type armProfile struct {
	successRate  float64
	qualityMean  float64
	qualityStdev float64
	latencyStdev float64
}

// defaultProfiles covers the built-in catalog. The premium arm is clearly
// best on quality, the low-tier arm clearly cheapest; a well-behaved engine
// should concentrate traffic accordingly as evidence accumulates.
var defaultProfiles = map[string]armProfile{
	"model-premium": {successRate: 0.92, qualityMean: 0.9, qualityStdev: 0.05, latencyStdev: 300},
	"model-fast":    {successRate: 0.80, qualityMean: 0.65, qualityStdev: 0.10, latencyStdev: 80},
	"model-cheap":   {successRate: 0.55, qualityMean: 0.45, qualityStdev: 0.15, latencyStdev: 60},
	"tool-search":   {successRate: 0.85, qualityMean: 0.7, qualityStdev: 0.10, latencyStdev: 120},
}

func defaultCatalog() *routing.Catalog {
	return &routing.Catalog{Tools: []routing.ToolDescriptor{
		{ID: "model-premium", Category: "llm", Capabilities: []string{"generation", "analysis"}, CostTier: routing.CostTierPremium, TypicalLatencyMs: 1800},
		{ID: "model-fast", Category: "llm", Capabilities: []string{"generation"}, CostTier: routing.CostTierStandard, TypicalLatencyMs: 450},
		{ID: "model-cheap", Category: "llm", Capabilities: []string{"generation"}, CostTier: routing.CostTierLow, TypicalLatencyMs: 300},
		{ID: "tool-search", Category: "tool", Capabilities: []string{"retrieval"}, CostTier: routing.CostTierLow, TypicalLatencyMs: 600},
	}}
}

var contentTypes = []string{"text", "code", "structured"}
var taskTypes = []string{"generation", "analysis", "extraction", "orchestration"}

// sampleTask draws one synthetic task context.
func sampleTask(rng *rand.Rand) routing.TaskContext {
	complexity := rng.Float64()
	urgency := rng.Float64()
	accuracy := rng.Float64()
	budget := rng.Float64() * 5
	size := rng.ExpFloat64() * 50_000
	return routing.TaskContext{
		Complexity:       &complexity,
		Urgency:          &urgency,
		RequiredAccuracy: &accuracy,
		BudgetUSD:        &budget,
		DataSizeBytes:    &size,
		ContentType:      contentTypes[rng.Intn(len(contentTypes))],
		Realtime:         rng.Float64() < 0.2,
		TaskType:         taskTypes[rng.Intn(len(taskTypes))],
	}
}

// sampleOutcome draws an outcome for the chosen arm from its latent profile.
func sampleOutcome(rng *rand.Rand, tool routing.ToolDescriptor, profile armProfile) (success bool, quality, latencyMs float64) {
	success = rng.Float64() < profile.successRate
	quality = profile.qualityMean + rng.NormFloat64()*profile.qualityStdev
	if !success {
		quality *= 0.3
	}
	if quality < 0 {
		quality = 0
	}
	if quality > 1 {
		quality = 1
	}
	latencyMs = tool.TypicalLatencyMs + rng.NormFloat64()*profile.latencyStdev
	if latencyMs < 1 {
		latencyMs = 1
	}
	return success, quality, latencyMs
}

// runCmd routes a synthetic traffic stream through the full engine:
// tenant registry, active policy, shadow evaluation, tool facade with
// batched feedback, and entropy observability.
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Route a synthetic traffic stream and report engine behavior",
	Run: func(cmd *cobra.Command, args []string) {
		setupLogging()

		bundle := &bandit.EngineBundle{}
		if configPath != "" {
			loaded, err := bandit.LoadEngineBundle(configPath)
			if err != nil {
				logrus.Fatalf("loading engine config: %v", err)
			}
			bundle = loaded
		}
		if err := bandit.ValidateEngineBundle(bundle); err != nil {
			logrus.Fatalf("invalid engine config: %v", err)
		}
		if bundle.Seed != nil {
			seed = *bundle.Seed
		}
		if len(bundle.ShadowPolicies) == 0 && bundle.ActivePolicy != "lints" {
			bundle.ShadowPolicies = []string{"lints"}
		}

		catalog := defaultCatalog()
		if catalogPath != "" {
			loaded, err := routing.LoadCatalog(catalogPath)
			if err != nil {
				logrus.Fatalf("loading catalog: %v", err)
			}
			catalog = loaded
		}

		rng := bandit.NewPartitionedRNG(bandit.NewEngineKey(seed))
		var store bandit.StateStore = bandit.NoopStateStore{}
		if bundle.Persistence.Enabled {
			fileStore, err := bandit.NewFileStateStore(bundle.Persistence.Dir)
			if err != nil {
				logrus.Fatalf("opening state dir: %v", err)
			}
			store = fileStore
		}

		emaAlpha := bandit.DefaultEMAAlpha
		if bundle.EMAAlpha != nil {
			emaAlpha = *bundle.EMAAlpha
		}
		registry := bandit.NewTenantRouters(bandit.RegistryOptions{
			RNG:      rng,
			Store:    store,
			Emitter:  bandit.LogEmitter{},
			Persist:  bundle.Persistence.Enabled,
			EMAAlpha: emaAlpha,
		})

		params := bandit.PolicyParams{Dim: routing.ContextDim, Sigma: bandit.DefaultLinTSSigma}
		if bundle.LinTS.Dim != nil {
			params.Dim = *bundle.LinTS.Dim
		}
		if bundle.LinTS.Sigma != nil {
			params.Sigma = *bundle.LinTS.Sigma
		}
		dispatcher := dispatch.New(dispatch.Config{
			ActivePolicy:   bundle.ActivePolicy,
			ShadowPolicies: bundle.ShadowPolicies,
			Params:         params,
		}, registry, rng)

		threshold := bandit.DefaultHealthThreshold
		if bundle.HealthThreshold != nil {
			threshold = *bundle.HealthThreshold
		}
		toolPolicy := bandit.NewLinTSPolicy(routing.ContextDim, params.Sigma, rng.ForSubsystem("facade"))
		toolRouter := routing.NewToolRouter(toolPolicy, bandit.NewRewardNormalizer(emaAlpha), threshold)
		armCount := toolRouter.DiscoverArms(catalog)

		byID := make(map[string]routing.ToolDescriptor, len(catalog.Tools))
		candidates := make([]string, 0, len(catalog.Tools))
		for _, tool := range catalog.Tools {
			byID[tool.ID] = tool
			candidates = append(candidates, tool.ID)
		}

		logrus.Infof("Routing %d synthetic requests over %d arms, %d tenants, seed=%d",
			requests, armCount, tenants, seed)
		startTime := time.Now()

		traffic := rng.ForSubsystem(bandit.SubsystemTraffic)
		selections := make(map[string]int)

		for i := 0; i < requests; i++ {
			tenant := fmt.Sprintf("tenant-%d", i%tenants)
			task := sampleTask(traffic)
			ctx := routing.BuildContextVector(task)

			decision := dispatcher.Decide(tenant, "default", ctx, candidates)
			if decision.ArmID == "" {
				logrus.Warnf("request %d: no arm served (%s)", i, decision.Reason)
				continue
			}
			selections[decision.ArmID]++

			tool := byID[decision.ArmID]
			profile := defaultProfiles[decision.ArmID]
			if profile.successRate == 0 {
				profile = armProfile{successRate: 0.7, qualityMean: 0.6, qualityStdev: 0.1, latencyStdev: 100}
			}
			success, quality, latencyMs := sampleOutcome(traffic, tool, profile)

			dispatcher.RecordOutcome(tenant, "default", decision.ArmID, ctx, candidates,
				quality, latencyMs, tool.CostUnits())
			toolRouter.SubmitFeedback(decision.ArmID, ctx, success, latencyMs, quality)

			if drainEvery > 0 && (i+1)%drainEvery == 0 {
				toolRouter.ProcessFeedbackBatch()
			}
		}
		toolRouter.ProcessFeedbackBatch()
		registry.Flush()

		printSummary(registry, dispatcher, toolRouter, selections, time.Since(startTime))
	},
}

// printSummary reports selection shares, entropy gauges, shadow policy
// performance, and facade health at the end of a run.
func printSummary(registry *bandit.TenantRouters, dispatcher *dispatch.Dispatcher,
	toolRouter *routing.ToolRouter, selections map[string]int, elapsed time.Duration) {

	total := 0
	for _, c := range selections {
		total += c
	}

	fmt.Println("=== Routing Summary ===")
	fmt.Printf("Requests routed      : %d in %s\n", total, elapsed.Round(time.Millisecond))
	for arm, count := range selections {
		fmt.Printf("  %-16s : %5d (%.1f%%)\n", arm, count, 100*float64(count)/float64(total))
	}
	for t := 0; t < tenants; t++ {
		tenant := fmt.Sprintf("tenant-%d", t)
		fmt.Printf("Tenant %-12s : selection entropy %.3f nats, posterior entropy %.3f nats\n",
			tenant,
			registry.SelectionEntropy(tenant, "default"),
			registry.PosteriorMeanEntropy(tenant, "default"))
	}

	summary := dispatcher.Tracker().Summary()
	fmt.Printf("Baseline             : %d pulls, avg reward %.3f\n", summary.BaselinePulls, summary.BaselineAvg)
	for _, row := range summary.Policies {
		fmt.Printf("Shadow %-13s : %d pulls, avg %.3f, ratio %.3f, regret %.1f%%\n",
			row.Policy, row.Pulls, row.AvgReward, row.PerformanceRatio, row.RegretPercent)
	}

	metrics := toolRouter.Metrics()
	fmt.Printf("Facade               : %d arms, queue depth %d\n", metrics.ArmCount, metrics.QueueDepth)
	for arm, st := range metrics.Arms {
		fmt.Printf("  %-16s : used %d, success %d, health %.3f\n",
			arm, st.UsageCount, st.SuccessCount, st.HealthScore)
	}
}
