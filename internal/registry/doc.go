// Package registry es la fachada del registro de claves de firma de un tenant.
//
// Un signature set es un par RSA con un key timestamp. La misma parte pública
// se expone en los dos roles (application e identity manager). La privada sale
// una sola vez, en el retorno de CreateSignatureSet, y nunca se persiste.
//
// Los sets son inmutables: rotar es crear uno nuevo e invalidar el viejo.
package registry
