package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/govmatch-ai/govmatch/internal/app"
	"github.com/govmatch-ai/govmatch/internal/storage"
)

// newDemoCmd creates the demo subcommand.
func newDemoCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Seed sample data and run an end-to-end match pass",
		Long: `Demo seeds a handful of companies and SAM.gov-style opportunities,
runs the full nightly coordination locally, and prints the resulting
match table. With the default configuration everything runs against
SQLite and in-memory backends, so no external services are needed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
			defer cancel()
			return withDeps(ctx, runDemo)
		},
	}
	return cmd
}

func runDemo(deps *app.Dependencies) error {
	ctx := context.Background()
	ui := NewUI(outputJSON, noColor)
	defer ui.Close()

	ui.Section("GovMatch Demo")

	// Step 1: seed companies.
	ui.Step("Seeding %d companies", len(demoCompanies))
	for i := range demoCompanies {
		if err := deps.Repos.Companies.Upsert(ctx, &demoCompanies[i]); err != nil {
			return fmt.Errorf("seed company %s: %w", demoCompanies[i].CompanyID, err)
		}
	}

	// Step 2: run the full ingestion pipeline for each opportunity.
	ui.Step("Ingesting %d opportunities", len(demoOpportunities))
	bar := newItemsBar(int64(len(demoOpportunities)), "Ingesting")
	for i := range demoOpportunities {
		opp := demoOpportunity(demoOpportunities[i])
		if _, err := deps.OppProc.Process(ctx, &opp); err != nil {
			return fmt.Errorf("ingest %s: %w", opp.NoticeID, err)
		}
		_ = bar.Add(1)
	}
	_ = bar.Finish()

	// Step 3: nightly coordination, drained in-process.
	ui.Step("Running nightly match coordination")
	type runOutcome struct {
		coordinationID string
		err            error
	}
	done := make(chan runOutcome, 1)
	go func() {
		result, err := deps.Runner.RunNightly(ctx)
		out := runOutcome{err: err}
		if result != nil {
			out.coordinationID = result.CoordinationID
		}
		done <- out
	}()

	var outcome runOutcome
loop:
	for {
		select {
		case outcome = <-done:
			break loop
		default:
			if _, err := drainMatchPairs(ctx, deps, nil); err != nil {
				logger.Warn().Err(err).Msg("Queue drain failed")
			}
			time.Sleep(100 * time.Millisecond)
		}
	}
	if outcome.err != nil {
		return fmt.Errorf("nightly run failed: %w", outcome.err)
	}
	ui.Success("Coordination %s completed", outcome.coordinationID)

	// Step 4: show the best matches per company.
	for i := range demoCompanies {
		company := &demoCompanies[i]
		results, err := deps.Repos.Matches.ListByCompany(ctx, company.CompanyID, 5, 0)
		if err != nil {
			return fmt.Errorf("list matches for %s: %w", company.CompanyID, err)
		}
		ui.Section(company.LegalName)
		rows := make([][]string, 0, len(results))
		for _, r := range results {
			rows = append(rows, []string{
				r.OpportunityID,
				fmt.Sprintf("%.3f", r.TotalScore),
				string(r.Confidence),
			})
		}
		ui.Table([]string{"NOTICE", "SCORE", "CONFIDENCE"}, rows)
	}

	ui.Info("Try: govmatch-cli match score --tenant demo --company acme-federal --notice DEMO-0001")
	return nil
}

var demoCompanies = []storage.CompanyProfile{
	{
		CompanyID:           "acme-federal",
		TenantID:            "demo",
		LegalName:           "Acme Federal Solutions LLC",
		NAICSCodes:          []string{"541511", "541512"},
		Certifications:      []string{"Small Business", "8(a)"},
		Locations:           []storage.Location{{City: "Arlington", State: "VA"}},
		CapabilityStatement: "Custom software development, cloud migration, and DevSecOps for federal civilian agencies.",
	},
	{
		CompanyID:           "granite-build",
		TenantID:            "demo",
		LegalName:           "Granite Build Group Inc",
		NAICSCodes:          []string{"236220"},
		Certifications:      []string{"Small Business", "HUBZone"},
		Locations:           []storage.Location{{City: "Denver", State: "CO"}},
		CapabilityStatement: "Commercial and institutional building construction, renovation, and design-build delivery.",
	},
	{
		CompanyID:           "beacon-logistics",
		TenantID:            "demo",
		LegalName:           "Beacon Logistics Corp",
		NAICSCodes:          []string{"488510", "493110"},
		Certifications:      []string{"Woman-Owned Small Business"},
		Locations:           []storage.Location{{City: "Norfolk", State: "VA"}},
		CapabilityStatement: "Freight forwarding, warehousing, and supply chain management for defense customers.",
	},
}

type demoNotice struct {
	noticeID string
	title    string
	naics    string
	setAside string
	state    string
	summary  string
}

var demoOpportunities = []demoNotice{
	{"DEMO-0001", "Custom Software Development Services", "541511", "Small Business Set-Aside", "VA",
		"Agency requires agile software development and cloud migration support."},
	{"DEMO-0002", "Data Center Modernization", "541512", "8(a) Set-Aside", "MD",
		"Modernize legacy data center workloads onto approved cloud infrastructure."},
	{"DEMO-0003", "Office Building Renovation", "236220", "HUBZone Set-Aside", "CO",
		"Renovation of a three-story federal office building including HVAC replacement."},
	{"DEMO-0004", "Freight Transportation Services", "488510", "Woman-Owned Small Business Set-Aside", "VA",
		"Nationwide freight forwarding and distribution services for medical supplies."},
	{"DEMO-0005", "Cybersecurity Assessment Support", "541512", "", "DC",
		"Independent security assessments and continuous monitoring support."},
}

func demoOpportunity(n demoNotice) storage.Opportunity {
	deadline := time.Now().Add(21 * 24 * time.Hour)
	archive := time.Now().Add(90 * 24 * time.Hour)
	opp := storage.Opportunity{
		NoticeID:         n.noticeID,
		Title:            n.title,
		Description:      n.summary,
		PostedDate:       time.Now().Add(-24 * time.Hour),
		ResponseDeadline: &deadline,
		ArchiveDate:      &archive,
		NAICSCode:        n.naics,
		SetAside:         n.setAside,
		Active:           true,
		Status:           storage.OpportunityStatusActive,
	}
	if n.state != "" {
		opp.PlaceOfPerformance = &storage.Location{State: n.state}
	}
	return opp
}
