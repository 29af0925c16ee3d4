// Copyright 2026 The AgentVault Authors
// SPDX-License-Identifier: Apache-2.0

// Package secret provides a memory-safe buffer for sensitive material:
// vault passphrases, the derived master key, and agent private keys in
// transit between generation and keyfile write.
//
// [Buffer] allocates memory outside the Go heap via mmap(MAP_ANONYMOUS),
// locks it into physical RAM via mlock (preventing swap), and marks it
// excluded from core dumps via madvise(MADV_DONTDUMP). On Close, the
// memory is zeroed, unlocked, and unmapped. Because the memory lives
// outside the Go heap, the garbage collector cannot copy or relocate
// it, so no stray copies of key material survive release.
//
// The vault master key lives in a Buffer for the whole unlocked
// session and is destroyed by the vault's Lock operation. It is never
// written to disk in any form.
package secret
