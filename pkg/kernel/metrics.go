// Copyright 2024 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package kernel

import "pikernel.dev/pikernel/pkg/metric"

// Scheduler metrics.
var (
	processesAdmitted = metric.MustCreateNewUint64Metric("/kernel/processes_admitted", "Number of processes admitted to the run queue.")
	processesExited   = metric.MustCreateNewUint64Metric("/kernel/processes_exited", "Number of processes killed, by exit or by fault.")
	preemptions       = metric.MustCreateNewUint64Metric("/kernel/preemptions", "Number of timer preemptions.")
	idleWaits         = metric.MustCreateNewUint64Metric("/kernel/idle_waits", "Number of waits for an interrupt with no ready process.")
)
