// Package stitch merges the decode results of overlapping windows into one
// time-ordered token stream without duplicated tokens at window boundaries.
package stitch
