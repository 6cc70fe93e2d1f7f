/*
Copyright 2025 HZeroxium.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package confighash

import (
	"fmt"
	"time"

	"github.com/HZeroxium/central-config-server/pkg/config"
)

// mockHash synthesizes an expected hash for services not on the mock-mode
// whitelist. Purely a test affordance; drift logic is unaware of it.
func mockHash(mode config.MockModeConfig, serviceName, environment string, now time.Time) string {
	switch mode.Strategy {
	case config.MockRandom:
		return HashString(fmt.Sprintf("mock-%s:%s:%d", serviceName, environment, now.UnixNano()))
	case config.MockStatic:
		return mode.StaticHash
	default: // DETERMINISTIC
		return HashString(fmt.Sprintf("mock-%s:%s", serviceName, environment))
	}
}

// mockApplies reports whether mock mode intercepts this service.
func mockApplies(mode config.MockModeConfig, serviceName string) bool {
	if !mode.Enabled {
		return false
	}
	for _, s := range mode.Whitelist {
		if s == serviceName {
			return false
		}
	}
	return true
}
