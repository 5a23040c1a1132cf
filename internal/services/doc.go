// Package services holds the shared error taxonomy and context annotation
// helpers used by pipeline stages and external engine adapters.
package services
