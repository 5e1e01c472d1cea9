/*
Package api exposes the control-plane HTTP surface: CRUD for containers,
processors, secrets, namespaces and cache keys, plus scale and health
endpoints. Handlers only mutate rows; the reconciler picks changes up on its
next tick. The one exception is deletion, which tears down backend resources
synchronously through the Deleter.

Every /v1 route authenticates the caller and authorizes the target namespace.
Authorization failures surface as 404 so the API does not reveal which
namespaces exist.
*/
package api
