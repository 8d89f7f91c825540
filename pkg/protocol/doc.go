// Package protocol implements the protocol switch: conversion between
// chat-completion protocol families (OpenAI, Anthropic, Qwen) and the
// normalized core forms.
//
// Each family has a Converter that parses wire JSON into the normalized
// request/response and renders back out. The Registry declares which
// directed pairs are supported; undeclared pairs fail with
// UnsupportedConversion. Semantic differences between families (system
// message hoisting, finish-reason vocabularies, content block flattening)
// are handled here so the rest of the pipeline only ever sees normalized
// forms.
package protocol
