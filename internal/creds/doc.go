// Package creds persists the publishing platform's OAuth material and keeps
// a valid access token available to concurrent uploaders. A single refresh
// token is stored on disk; short-lived access tokens are refreshed on demand
// with duplicate refreshes collapsed through singleflight.
package creds
