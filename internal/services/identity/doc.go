// Package identity allocates the anonymous display names clients chat under,
// such as ShadowPanther42. Names are unique among live sessions only and are
// freed for reuse when their holder disconnects.
package identity
