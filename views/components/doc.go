// Package components renders the HTML fragments that SSE swaps into the wheel page.
package components
