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
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudnative-pg/machinery/pkg/log"
	"github.com/manifoldco/promptui"

	"github.com/dbshrink/dbshrink/pkg/batch"
)

// ErrAborted is returned when the user interrupts a prompt with Ctrl+C.
var ErrAborted = errors.New("aborted by user")

// ConfirmFunc asks a yes/no question.
type ConfirmFunc func(label string) (bool, error)

// Confirm prompts the user for a yes/no answer on the terminal.
// Anything but an explicit yes is a no.
func Confirm(label string) (bool, error) {
	prompt := promptui.Prompt{
		Label:     label,
		IsConfirm: true,
	}

	result, err := prompt.Run()
	if err != nil {
		if errors.Is(err, promptui.ErrInterrupt) {
			return false, ErrAborted
		}
		// promptui returns ErrAbort for "n" response
		if errors.Is(err, promptui.ErrAbort) {
			return false, nil
		}
		return false, err
	}

	answer := strings.ToLower(result)
	return answer == "y" || answer == "yes", nil
}

// confirmGate asks before each shrink. Interrupting the prompt declines the
// file and cancels the rest of the run.
type confirmGate struct {
	confirm ConfirmFunc
	cancel  context.CancelFunc
}

func newConfirmGate(confirm ConfirmFunc, cancel context.CancelFunc) *confirmGate {
	return &confirmGate{confirm: confirm, cancel: cancel}
}

// Decide implements batch.Gate
func (g *confirmGate) Decide(ctx context.Context, target batch.Target) (batch.Decision, error) {
	label := fmt.Sprintf("Shrink %s file %s of %s on %s from %.2f MB to %d MB in %d step(s)",
		target.FileType, target.File, target.Database, target.Instance,
		target.CurrentSizeMB, target.DesiredSizeMB, len(target.Plan))

	ok, err := g.confirm(label)
	switch {
	case errors.Is(err, ErrAborted):
		log.FromContext(ctx).Info("run interrupted by user")
		g.cancel()
		return batch.Decline, nil
	case err != nil:
		return batch.Decline, err
	case ok:
		return batch.Proceed, nil
	default:
		return batch.Decline, nil
	}
}
