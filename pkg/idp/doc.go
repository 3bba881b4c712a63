// Package idp is the read and seed side of identity provider management used
// by application flows. Directory reports each provider's default
// authenticator and hub flag, and Register seeds providers with their
// authenticators.
package idp
