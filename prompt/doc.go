// Package prompt implements the interactive collaborators of a device session
// on a text terminal: a list picker for device selection and a credential
// provider for keyboard-interactive authentication.
package prompt
