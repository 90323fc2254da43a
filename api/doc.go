// Copyright 2025 Poiesic Systems
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

// Package api exposes retrieval over HTTP.
//
// Requester identity is taken from headers set by a trusted gateway:
//
//	X-Requester-Role   anonymous, unit_member, unit_admin, org_admin or top_admin
//	X-Requester-Unit   the requester's unit, required for unit roles
//	X-Requester-User   the requester's user ID
//
// A request without a role header is anonymous. Failures are reported with
// a user-facing message; internal error text never leaves the server.
package api
