// Copyright 2025 Ewout Prangsma
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// Author Ewout Prangsma
//

package environment

import (
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"
)

const sysfsExport = "/sys/class/gpio/export"

// AutoDetectDriver detects the default GPIO driver type based on the environment.
func AutoDetectDriver(log zerolog.Logger, chipPath string) string {
	var name unix.Utsname
	if err := unix.Uname(&name); err != nil {
		log.Warn().Err(err).Msg("Uname failed, falling back to simulated GPIO")
		return DriverSim
	}
	release := unix.ByteSliceToString(name.Release[:])
	machine := unix.ByteSliceToString(name.Machine[:])
	log.Debug().Str("release", release).Str("machine", machine).Msg("Detecting GPIO driver")
	return detect(release, machine, func(path string, mode uint32) bool {
		return unix.Access(path, mode) == nil
	}, chipPath)
}

// detect selects a driver from the kernel release, machine & accessible
// device files.
func detect(release, machine string, accessible func(path string, mode uint32) bool, chipPath string) string {
	isArm := strings.HasPrefix(machine, "arm") || strings.HasPrefix(machine, "aarch64")
	switch {
	case isArm && (strings.HasSuffix(release, "+") || strings.Contains(release, "raspi") || strings.Contains(release, "sunxi")):
		// Raspberry Pi & Allwinner kernels
		return DriverPeriph
	case accessible(chipPath, unix.R_OK|unix.W_OK):
		return DriverChardev
	case accessible(sysfsExport, unix.W_OK):
		return DriverSysfs
	default:
		return DriverSim
	}
}
