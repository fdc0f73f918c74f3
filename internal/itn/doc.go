// Package itn converts spoken-form Chinese numerals in free text into Arabic numerals.
// It locates candidate runs with a single scan pattern, skips runs that overlap fixed
// idioms, classifies each run into one numeral kind and converts it.
package itn
