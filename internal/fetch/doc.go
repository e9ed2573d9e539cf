// Package fetch retrieves JSON documents from authorization servers:
// discovery metadata and JSON Web Key Sets.
package fetch
