// Copyright 2025 Tom Barlow
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

package ipc

import (
	"errors"

	"github.com/mcpdock/mcpdock/internal/mcp"
)

var (
	errNoScheduler = errors.New("metrics scheduler not configured")
	errNoSearch    = errors.New("registry search not configured")
)

// resultError converts a failed connect result into an error for the
// response envelope.
func resultError(result *mcp.ConnectResult) error {
	if result.Error != "" {
		return errors.New(result.Error)
	}
	return errors.New("operation failed")
}
