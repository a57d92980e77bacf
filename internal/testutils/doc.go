// Package testutils provides test helpers shared by the eofetch packages.
package testutils
