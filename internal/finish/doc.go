// Package finish turns stitched tokens into display text: it joins tokens,
// normalises spacing, restores punctuation and converts spoken numerals.
package finish
