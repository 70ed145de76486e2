/*
Copyright © contributors to dbshrink.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.

SPDX-License-Identifier: Apache-2.0
*/

package shrink

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/cheynewallace/tabby"
	"github.com/logrusorgru/aurora/v4"

	apiv1 "github.com/dbshrink/dbshrink/api/v1"
)

// OutputFormat is the format of the results written to the terminal
type OutputFormat string

const (
	// OutputFormatText prints one colored line per file and a summary table
	OutputFormatText OutputFormat = "text"

	// OutputFormatJSON prints one JSON object per file
	OutputFormatJSON OutputFormat = "json"
)

// printer renders results while the run progresses
type printer interface {
	Result(result apiv1.ShrinkResult) error
	Summary(results []apiv1.ShrinkResult) error
}

func newPrinter(format OutputFormat, out io.Writer) (printer, error) {
	switch format {
	case OutputFormatText, "":
		return &textPrinter{out: out}, nil
	case OutputFormatJSON:
		return &jsonPrinter{enc: json.NewEncoder(out)}, nil
	default:
		return nil, fmt.Errorf("unknown output format %q, must be one of text|json", format)
	}
}

type jsonPrinter struct {
	enc *json.Encoder
}

func (p *jsonPrinter) Result(result apiv1.ShrinkResult) error {
	return p.enc.Encode(result)
}

func (p *jsonPrinter) Summary([]apiv1.ShrinkResult) error {
	return nil
}

type textPrinter struct {
	out io.Writer
}

func (p *textPrinter) Result(result apiv1.ShrinkResult) error {
	location := result.SQLInstance + "/" + result.Database
	if result.File != "" {
		location += "/" + result.File
	}

	var detail string
	switch result.Outcome {
	case apiv1.OutcomeShrunk:
		detail = fmt.Sprintf("%.2f MB -> %.2f MB in %d step(s), %s",
			result.InitialSizeMB, result.FinalSizeMB, result.StepsCompleted, result.Elapsed.Round(time.Millisecond))
	case apiv1.OutcomeFailed:
		detail = result.Error
		if result.StepsCompleted > 0 {
			detail = fmt.Sprintf("%s (%d step(s) completed, now %.2f MB)",
				detail, result.StepsCompleted, result.FinalSizeMB)
		}
	default:
		detail = result.Notes
	}

	_, err := fmt.Fprintf(p.out, "%s %s %s\n", colorOutcome(result.Outcome), aurora.Bold(location), detail)
	return err
}

func (p *textPrinter) Summary(results []apiv1.ShrinkResult) error {
	if len(results) == 0 {
		_, err := fmt.Fprintln(p.out, aurora.Yellow("No files processed"))
		return err
	}

	if _, err := fmt.Fprintln(p.out); err != nil {
		return err
	}
	if _, err := fmt.Fprintln(p.out, aurora.Bold("Summary:")); err != nil {
		return err
	}

	t := tabby.NewCustom(newTabWriter(p.out))
	t.AddHeader("INSTANCE", "DATABASE", "FILE", "TYPE", "OUTCOME", "INITIAL (MB)", "FINAL (MB)", "RECLAIMED (MB)")

	counts := make(map[apiv1.Outcome]int)
	var reclaimed float64
	for _, r := range results {
		counts[r.Outcome]++
		reclaimed += r.ReclaimedMB()
		t.AddLine(r.SQLInstance, r.Database, r.File, r.FileType, r.Outcome,
			fmt.Sprintf("%.2f", r.InitialSizeMB),
			fmt.Sprintf("%.2f", r.FinalSizeMB),
			fmt.Sprintf("%.2f", r.ReclaimedMB()))
	}
	t.Print()

	_, err := fmt.Fprintf(p.out, "\nShrunk: %d  Failed: %d  Skipped: %d  WhatIf: %d  Reclaimed: %.2f MB\n",
		counts[apiv1.OutcomeShrunk], counts[apiv1.OutcomeFailed],
		counts[apiv1.OutcomeSkipped], counts[apiv1.OutcomeWhatIf], reclaimed)
	return err
}

func newTabWriter(out io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
}

func colorOutcome(outcome apiv1.Outcome) string {
	label := "[" + string(outcome) + "]"
	switch outcome {
	case apiv1.OutcomeShrunk:
		return aurora.Green(label).String()
	case apiv1.OutcomeFailed:
		return aurora.Red(label).String()
	case apiv1.OutcomeWhatIf:
		return aurora.Cyan(label).String()
	default:
		return aurora.Yellow(label).String()
	}
}
