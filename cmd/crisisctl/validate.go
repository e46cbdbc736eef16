package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"slices"

	"github.com/couchcryptid/crisis-data-service/internal/domain"
	"github.com/spf13/cobra"
)

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

// maxReportedErrors caps the detail printed per failed phase.
const maxReportedErrors = 20

func newValidateCommand(_ *rootOptions) *cobra.Command {
	var crisesPath string

	cmd := &cobra.Command{
		Use:   "validate <merged.geojson>",
		Short: "Check a merged crisis map",
		Long: `Check a merged crisis map: every feature has a resolvable country code,
a known severity_bucket, and the matching severity_color.

With --crises, also checks each feature's bucket against the latest crisis
row for its country.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read merged map: %w", err)
			}
			fc, err := domain.DecodeFeatureCollection(data)
			if err != nil {
				return fmt.Errorf("decode %s: %w", args[0], err)
			}

			var records []domain.CrisisRecord
			if crisesPath != "" {
				raw, err := os.ReadFile(crisesPath)
				if err != nil {
					return fmt.Errorf("read crises: %w", err)
				}
				if records, err = domain.DecodeCrisisRecords(raw); err != nil {
					return fmt.Errorf("decode %s: %w", crisesPath, err)
				}
			}

			phases := validateMap(fc, records, crisesPath != "")
			if !report(cmd.OutOrStdout(), fc, phases) {
				return errors.New("validation failed")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&crisesPath, "crises", "", "crisis rows used to build the map (JSON array)")

	return cmd
}

func validateMap(fc domain.FeatureCollection, records []domain.CrisisRecord, crossRef bool) []*phase {
	phases := []*phase{
		validateStructure(fc),
		validateClassification(fc),
	}
	if crossRef {
		phases = append(phases, validateCrossReference(fc, records))
	}
	return phases
}

func validateStructure(fc domain.FeatureCollection) *phase {
	p := &phase{name: "GeoJSON structure"}
	if fc.Type != "FeatureCollection" {
		p.errorf("collection type %q, want FeatureCollection", fc.Type)
	}
	for i, f := range fc.Features {
		if f.Type != "Feature" {
			p.errorf("feature %d: type %q, want Feature", i, f.Type)
		}
		if len(f.Geometry) == 0 {
			p.errorf("feature %d: missing geometry", i)
		}
	}
	return p
}

func validateClassification(fc domain.FeatureCollection) *phase {
	p := &phase{name: "Identifiers and severity buckets"}
	for i, f := range fc.Features {
		if _, ok := domain.FeatureIdentifier(f.Properties); !ok {
			p.errorf("feature %d: no resolvable country code", i)
		}
		raw, ok := f.Properties[domain.BucketProperty].(string)
		if !ok {
			p.errorf("feature %d: missing %s", i, domain.BucketProperty)
			continue
		}
		bucket := domain.Bucket(raw)
		if !slices.Contains(domain.Buckets, bucket) {
			p.errorf("feature %d: unknown bucket %q", i, raw)
			continue
		}
		if color, _ := f.Properties[domain.ColorProperty].(string); color != bucket.Color() {
			p.errorf("feature %d: %s %q for bucket %s, want %q", i, domain.ColorProperty, color, bucket, bucket.Color())
		}
	}
	return p
}

func validateCrossReference(fc domain.FeatureCollection, records []domain.CrisisRecord) *phase {
	p := &phase{name: "Crisis cross-reference"}
	latest := domain.LatestByIdentifier(records)
	for i, f := range fc.Features {
		id, ok := domain.FeatureIdentifier(f.Properties)
		if !ok {
			continue
		}
		got, _ := f.Properties[domain.BucketProperty].(string)
		want := domain.BucketUnmatched
		if rec, found := latest[id]; found {
			want = domain.ClassifyCoverage(rec.CoverageRatio)
		}
		if domain.Bucket(got) != want {
			p.errorf("feature %d (%s): bucket %q, want %q", i, id, got, want)
		}
	}
	return p
}

func report(w io.Writer, fc domain.FeatureCollection, phases []*phase) bool {
	fmt.Fprintln(w, "=== Crisis Map Validation ===")
	fmt.Fprintln(w)

	allPassed := true
	for _, p := range phases {
		status := "PASS"
		if !p.passed() {
			status = fmt.Sprintf("FAIL (%d errors)", len(p.errors))
			allPassed = false
		}
		fmt.Fprintf(w, "  %-36s %s\n", p.name, status)
	}
	fmt.Fprintf(w, "\nFeatures: %d\n", len(fc.Features))

	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Fprintf(w, "\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			if i == maxReportedErrors {
				fmt.Fprintf(w, "  ... %d more\n", len(p.errors)-i)
				break
			}
			fmt.Fprintf(w, "  [%d] %s\n", i+1, e)
		}
	}

	if allPassed {
		fmt.Fprintln(w, "\nAll validations passed.")
	} else {
		fmt.Fprintln(w, "\nValidation FAILED.")
	}
	return allPassed
}
