// Package auth provides authentication for taskbot.
//
// # Chat Logins
//
// PasswordVerifier checks the email and password typed into a chat against
// the bcrypt hash stored for the user. Unknown emails and wrong passwords
// both return ErrInvalidCredentials after a bcrypt comparison, so the two
// cases cannot be told apart by timing.
//
// # Admin API Tokens
//
// The HTTP admin API is protected by HS256 JWTs signed with auth.jwt_secret:
//
//	verifier := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
//	token, _ := verifier.Generate("ops", 24*time.Hour)
//
//	mux.Handle("/api/", auth.RequireBearer(verifier)(apiHandler))
//
// RequireBearer stores the token subject in the request context; handlers
// read it with OperatorFromContext.
package auth
