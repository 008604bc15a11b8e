// Package wifi brings up the "Lap Timer" access point through NetworkManager.
// It needs root and nmcli on the host.
package wifi

import (
	"fmt"
	"net"
	"os/exec"
	"strings"
)

const connName = "LapTimerAP"

// runner executes one external command and returns its combined output.
type runner func(name string, args ...string) ([]byte, error)

func execRunner(name string, args ...string) ([]byte, error) {
	return exec.Command(name, args...).CombinedOutput()
}

var runFn runner = execRunner

// EnsureAPInterface creates the uap0 virtual interface on top of wlan0 when
// it does not exist yet.
func EnsureAPInterface() error {
	// Power save drops AP clients on the Pi.
	_, _ = runFn("ip", "link", "set", "wlan0", "up")
	_, _ = runFn("iw", "dev", "wlan0", "set", "power_save", "off")

	if _, err := runFn("iw", "dev", "uap0", "info"); err == nil {
		return nil
	}

	wlan0, err := net.InterfaceByName("wlan0")
	if err != nil {
		return fmt.Errorf("wlan0 not found: %v", err)
	}
	mac := apMAC(wlan0.HardwareAddr)
	if out, err := runFn("iw", "dev", "wlan0", "interface", "add", "uap0", "type", "__ap", "addr", mac.String()); err != nil {
		return fmt.Errorf("failed to create uap0: %v, output: %s", err, string(out))
	}
	return nil
}

// apMAC derives a distinct address from the station MAC by setting the
// locally administered bit.
func apMAC(hw net.HardwareAddr) net.HardwareAddr {
	mac := make(net.HardwareAddr, len(hw))
	copy(mac, hw)
	if len(mac) > 0 {
		mac[0] |= 0x02
	}
	return mac
}

// apCommands lists the nmcli invocations that (re)create the AP profile. An
// empty passphrase gives an open network.
func apCommands(ssid, passphrase, ip string) [][]string {
	if ip == "" {
		ip = "192.168.4.1"
	}
	if !strings.Contains(ip, "/") {
		ip += "/24"
	}

	add := []string{
		"con", "add", "type", "wifi", "ifname", "uap0", "con-name", connName,
		"autoconnect", "yes", "save", "yes",
		"ssid", ssid, "mode", "ap",
		"wifi.band", "bg", "wifi.channel", "6",
	}
	if passphrase != "" {
		add = append(add,
			"wifi-sec.key-mgmt", "wpa-psk",
			"wifi-sec.proto", "rsn",
			"wifi-sec.pairwise", "ccmp",
			"wifi-sec.group", "ccmp",
			"wifi-sec.psk", passphrase,
		)
	}

	return [][]string{
		add,
		// "shared" makes NetworkManager run DHCP for AP clients.
		{"con", "modify", connName, "ipv4.addresses", ip, "ipv4.method", "shared"},
		{"con", "up", connName},
	}
}

// SetupAP replaces any previous LapTimerAP profile and brings the AP up.
func SetupAP(ssid, passphrase, ip string) error {
	if err := EnsureAPInterface(); err != nil {
		return err
	}
	_, _ = runFn("nmcli", "con", "delete", connName)

	for _, args := range apCommands(ssid, passphrase, ip) {
		if out, err := runFn("nmcli", args...); err != nil {
			return fmt.Errorf("nmcli %s %s: %v, output: %s", args[0], args[1], err, strings.TrimSpace(string(out)))
		}
	}
	return nil
}
