// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 College Media Contributors

//go:build tools

// Package main pins tool and test dependencies to go.mod.
package main

import (
	_ "github.com/onsi/ginkgo/v2"
	_ "github.com/onsi/gomega"
	_ "github.com/stretchr/testify/assert"
	_ "github.com/stretchr/testify/mock"
	_ "github.com/stretchr/testify/require"
)
