// Copyright © 2026 The Peermap Authors
//
// This source code is governed by the MIT license, which can be found in the LICENSE file.

package main

import "github.com/peermap/peermap/cmd/peermapd/commands"

func main() {
	commands.Execute()
}
