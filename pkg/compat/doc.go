// Package compat applies per-provider field mapping tables to requests and
// responses. Mapping rules rename fields (including across dotted paths),
// fill defaults, enforce required fields, and run a closed set of declared
// transforms. Providers without a table, or with pass_through set, are left
// structurally untouched.
package compat
