// Package pages renders full HTML documents.
package pages
