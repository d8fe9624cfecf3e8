// Package s3 provides S3-backed blob stores for docgo backups.
//
// Store streams archives to Amazon S3 through the SDK's upload manager.
// DDBLatestStore layers DynamoDB conditional writes over any BlobStore so
// concurrent backup writers can advance the LATEST pointer safely.
package s3
