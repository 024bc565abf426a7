// Package codec implements the wire format shared with EVNotiPi clients:
// MessagePack documents compressed with xz, or zstd when configured.
// Decoding detects the container from its magic bytes.
package codec
