// Copyright © 2026 The imount Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//      http://www.apache.org/licenses/LICENSE-2.0
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command imount-check reports which external tools imount needs are
// actually available on the current host, grouped by section.
package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/sleuthkit-community/imount"
)

func main() {
	log.SetLevel(log.WarnLevel)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	reg := imount.NewRegistry()
	report := reg.Report(ctx)

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	missing := 0
	for _, section := range reg.Sections {
		fmt.Fprintf(w, "\n%s\n", section.Title)
		for _, status := range report[section.Title] {
			mark := "ok"
			if !status.Available {
				mark = "MISSING"
				missing++
			}
			fmt.Fprintf(w, "  %s\t%s\t%s\n", status.Name, mark, status.Purpose)
		}
	}
	_ = w.Flush()

	if missing > 0 {
		fmt.Printf("\n%d dependencies unavailable; affected operations will fail with a PrerequisiteFailedError.\n", missing)
		os.Exit(1)
	}
}
