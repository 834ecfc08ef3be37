// Copyright 2026 The Overwatch Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the Overwatch service configuration from a
// single YAML file named by the OVERWATCH_CONFIG environment variable
// ([Load]) or a --config flag ([LoadFile]). There is no search path
// and no environment variable overrides individual values.
//
// A file may carry development, staging, and production sections
// written in the same schema as the top level. The section matching
// [Config].Environment is decoded over the base values, so it only
// needs to name what differs. Production without a section of its
// own still refuses the internet knowledge tier.
//
// Path fields expand ${HOME}, ${OVERWATCH_ROOT}, and ${VAR:-default}
// after overrides are applied.
//
// The policy documents themselves (RBAC and pre-authorization) are not
// part of this file; Paths.Policies points at them and lib/policy
// loads them.
package config
