// Package claims conoce la forma de los claims "de sistema" que emite el servidor.
package claims

import "strings"

const devSysNSFallback = "https://hellojohn.local/claims/sys"

// SystemNamespace construye el namespace de claims de sistema anclado al issuer,
// donde el servidor publica roles y permisos. Ej: https://issuer.example/claims/sys
func SystemNamespace(issuer string) string {
	iss := strings.TrimSpace(issuer)
	if iss == "" {
		return devSysNSFallback
	}
	return strings.TrimRight(iss, "/") + "/claims/sys"
}
