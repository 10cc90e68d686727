// Package middleware adapts authcore.Engine to net/http.
//
//   - [Gate] reads the auth cookie (or a bearer header), calls Engine.Gate and
//     stores the verified claims in the request context.
//   - [RequirePurpose] narrows a route to one token purpose.
//   - [SetTokenCookie] and [ClearTokenCookie] manage the auth cookie.
//
// Authentication decisions are made by the Engine; this package only maps
// them to 401 and 403 responses.
package middleware
