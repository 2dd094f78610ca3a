// Package providers contains the OAuth1.0a and OAuth2 bases shared by the
// fitness provider adapters, plus helpers for building canonical metrics.
//
// Each provider lives in its own subpackage and embeds one base.
package providers
