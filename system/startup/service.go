package startup

import (
	"fmt"
	"os"
)

// InstallService writes a systemd unit that runs the node daemon at boot.
func InstallService(unitPath, binary, configFile, user string) error {
	unit := fmt.Sprintf(`[Unit]
Description=CBUS node
After=network.target

[Service]
Type=simple
User=%s
ExecStart=%s -config-file %s
Restart=on-failure
RestartSec=5s

[Install]
WantedBy=multi-user.target
`, user, binary, configFile)

	return os.WriteFile(unitPath, []byte(unit), 0644)
}
