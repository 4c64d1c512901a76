// Package logger provee el logger Zap del cliente de sesión, con scoping por contexto.
//
// # Decisiones
//
//   - Singleton: una instancia global inicializada con Init() desde cmd/.
//   - Context scoping: cada operación de sesión puede cargar un logger con
//     campos propios (request_id, op, state) sin crear un core nuevo.
//   - Entornos: "dev" usa consola con colores, "prod" usa JSON.
//   - Nunca se loguean tokens ni secretos en claro: usar util.MaskToken.
//
// # Uso
//
//	logger.Init(logger.Config{Env: cfg.App.Env, Level: cfg.Log.Level})
//	defer logger.Sync()
//
//	log := logger.From(ctx).With(logger.Component("session"), logger.Op("Login"))
//	log.Info("login ok", logger.UserID(u.ID))
package logger
