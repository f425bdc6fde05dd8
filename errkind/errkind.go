// Copyright 2025 achetronic
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

// Package errkind holds the sentinel errors shared across the module's
// layers (config, speculator, transport) so callers can classify a
// failure with errors.Is instead of string matching (spec §7).
package errkind

import "errors"

var (
	// ErrConfigInvalid marks a fatal startup configuration error.
	ErrConfigInvalid = errors.New("config invalid")
	// ErrDraftFailure marks a per-round failure from the Draft Collaborator.
	// Fatal to the session.
	ErrDraftFailure = errors.New("draft failure")
	// ErrTargetFailure marks a per-round network/HTTP/decode failure from
	// the Target Collaborator. Fatal to the session.
	ErrTargetFailure = errors.New("target failure")
	// ErrTransportClosed marks a session terminating because the
	// transport's send channel is gone. The session ends silently: no
	// error event is emitted because there's nowhere to send it.
	ErrTransportClosed = errors.New("transport closed")
)
